// Package all registers every record source driver.
package all

import (
	_ "github.com/darianmavgo/rwmigrate/sources/hsqldb"
	_ "github.com/darianmavgo/rwmigrate/sources/tabular"
)
