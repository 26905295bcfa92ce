package core

// Source keys of the pipeline inputs.
const (
	SourceRawData   = "raw_data"
	SourceBatch     = "etching_batch"
	SourceCleaner   = "cleaner_log"
	SourceDeveloper = "developer_log"
	SourceEtcher    = "etcher_log"
)

// Artifact file names written into a job directory, in pipeline order.
const (
	ArtifactCleanedRaw = "cleaned_raw_data.xlsx"
	ArtifactCombined   = "final_combined_data_raw_etch.csv"
	ArtifactSync       = "final_sequential_sync.csv"
	ArtifactFinal      = "final_data.csv"
	ArtifactSearch     = "lot_trace_result.csv"
)

func init() {
	registerSources()
}

func registerSources() {
	for _, def := range []SourceDefinition{
		{
			Key:      SourceRawData,
			Label:    "Raw material CoA sheet",
			FileName: "raw_data.xlsx",
			Order:    1,
		},
		{
			Key:             SourceBatch,
			Label:           "Etching batch table",
			FileName:        "tbl_etching_batch.csv",
			RequiredColumns: []string{ColBatchMelt, ColCreated},
			Order:           2,
		},
		{
			Key:             SourceCleaner,
			Label:           "Cleaner log",
			FileName:        "CL_Cleaner.csv",
			RequiredColumns: []string{ColTimeStamp},
			Order:           3,
		},
		{
			Key:             SourceDeveloper,
			Label:           "Developer log",
			FileName:        "CL_Developer.csv",
			RequiredColumns: []string{ColTimeStamp},
			Order:           4,
		},
		{
			Key:             SourceEtcher,
			Label:           "Etcher log",
			FileName:        "CL_Etcher4.csv",
			RequiredColumns: []string{ColTimeStamp},
			Order:           5,
		},
	} {
		Register(def)
	}
}
