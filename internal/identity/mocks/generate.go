// Package mocks holds gomock doubles for the identity ports.
//
// Regenerate after interface changes:
//
//	go generate ./internal/identity/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=identity_mock.go github.com/mrlokans/authview/internal/identity Provider,Subscription,UsersTable
