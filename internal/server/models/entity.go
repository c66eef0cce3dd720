package models

// Entity is one stored entity row. Data is the entity's JSON object; a
// deleted row keeps its ID and version as a tombstone so clients that
// pull later learn about the delete.
type Entity struct {
	UserID  string
	Type    string
	ID      int64
	Data    string
	Deleted bool
	Version int64
}
