package postgres

import (
	"database/sql"

	"github.com/xela07ax/spaceai-control-plane/internal/repository/sqlstore"
)

// TriggerRepo: реестр триггеров в таблице triggers.
type TriggerRepo struct {
	*sqlstore.TriggerTable
}

func NewTriggerRepo(db *sql.DB) *TriggerRepo {
	return &TriggerRepo{TriggerTable: sqlstore.NewTriggerTable(db, sqlstore.Postgres)}
}
