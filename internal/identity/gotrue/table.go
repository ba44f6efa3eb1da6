package gotrue

import (
	"context"
	"fmt"

	"github.com/mrlokans/authview/internal/identity"
)

var _ identity.UsersTable = (*PostgRESTTable)(nil)

// PostgRESTTable writes user records to the project's REST data API.
type PostgRESTTable struct {
	client *Client
	table  string
	token  func(ctx context.Context) string
}

// NewPostgRESTTable returns a table writer that always uses the anon key.
func NewPostgRESTTable(client *Client, table string) *PostgRESTTable {
	return &PostgRESTTable{client: client, table: table}
}

func (t *PostgRESTTable) Insert(ctx context.Context, records []identity.UserRecord) error {
	if len(records) == 0 {
		return nil
	}
	var accessToken string
	if t.token != nil {
		accessToken = t.token(ctx)
	}
	if err := t.client.InsertRows(ctx, t.table, accessToken, records); err != nil {
		return fmt.Errorf("insert into %s: %w", t.table, err)
	}
	return nil
}
