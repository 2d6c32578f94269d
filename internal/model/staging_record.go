// internal/model/staging_record.go
package model

// StagingRecord is one parsed CSV row awaiting import. Fields are keyed by
// the normalised header name.
type StagingRecord struct {
	Row    int               `json:"row"`
	Fields map[string]string `json:"fields"`
}
