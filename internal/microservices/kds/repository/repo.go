package repository

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	KdsRepo KdsRepositoryInterface
	PosRepo PosRepositoryInterface
}

func New(kdsDB *pgxpool.Pool, posDB *sql.DB) *Repository {
	return &Repository{
		KdsRepo: NewKdsRepository(kdsDB),
		PosRepo: NewPosRepository(posDB),
	}
}
