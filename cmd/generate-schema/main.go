// Command generate-schema writes the BigQuery schema of the per-flow
// archival result, for autoloading of archived measurements.
package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"cloud.google.com/go/bigquery"

	"github.com/Aruuni/tcpdatagen/pkg/flowtrace/model"
)

var flowtraceSchema string

func init() {
	flag.StringVar(&flowtraceSchema, "flowtrace",
		"/var/spool/datatypes/flowtrace.json", "filename to write flowtrace schema")
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	result := model.FlowResult{}
	sch, err := bigquery.InferSchema(result)
	rtx.Must(err, "failed to generate flowtrace schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal flowtrace schema")
	err = os.WriteFile(flowtraceSchema, b, 0o644)
	rtx.Must(err, "failed to write flowtrace schema")
}
