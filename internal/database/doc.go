// Package database provides the data access layer for the application.
//
// # Architecture
//
//	database/
//	├── database.go      # Connection setup and migrations
//	├── users/           # Application-side user records written after sign-up
//	└── audit/           # Audit trail of auth actions
//
// # Using Sub-packages
//
//	db, err := database.NewDatabase("./authview.db", logger)
//
//	usersRepo, err := users.NewRepository(db.DB, "users")
//	auditRepo := audit.NewRepository(db.DB)
//
// # Interface Implementations
//
//   - users.Repository: implements identity.UsersTable
//   - audit.Repository: storage behind audit.Service, which implements tasks.AuditPurger
package database
