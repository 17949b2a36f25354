package models

// Setting is one row of the flat key/value configuration table.
// Values are always stored as strings; booleans and numbers are
// parsed by the caller at the edges.
type Setting struct {
	Key   string `json:"key" gorm:"primaryKey;type:varchar(255)"`
	Value string `json:"value" gorm:"type:text"`
}

// TableName specifies the table name for Setting
func (Setting) TableName() string {
	return "settings"
}
