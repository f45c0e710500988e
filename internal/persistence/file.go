// Package persistence writes archival measurement results to disk.
package persistence

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

// DataFile describes a file where an archival result was saved.
type DataFile struct {
	// Prefix is the data directory the file was written under.
	Prefix string
	// Datatype is the datatype directory component.
	Datatype string
	// Subtest further qualifies the filename.
	Subtest string
	// UUID is the flow UUID embedded in the filename.
	UUID string
	// Path is the complete path of the written file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// WriteDataFile writes a JSON representation of result to
// <prefix>/<datatype>/<yyyy/mm/dd>/<datatype>-<subtest>-<ts>.<uuid>.json,
// creating directories as needed.
func WriteDataFile(prefix, datatype, subtest, uuid string,
	result interface{}) (*DataFile, error) {
	timestamp := time.Now()
	dir := path.Join(prefix, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	filepath := path.Join(dir, datatype+"-"+subtest+"-"+
		timestamp.Format("20060102T150405.000000000Z")+"."+uuid+".json")
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   prefix,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     filepath,
		Size:     len(data),
	}, nil
}
