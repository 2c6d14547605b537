package models

// Setting is an application-wide key/value setting.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
