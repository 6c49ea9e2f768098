// Package all registers every result storage backend.
package all

import (
	_ "claimscore/internal/storage/mssql"
	_ "claimscore/internal/storage/postgres"
	_ "claimscore/internal/storage/sqlite"
)
