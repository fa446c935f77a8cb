package compliance

import "fmt"

// DataError reports compliance data that cannot be evaluated, such as a
// negative limit or an unparseable expiry date.
type DataError struct {
	Field  string
	Detail string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("compliance data error: %s: %s", e.Field, e.Detail)
}
