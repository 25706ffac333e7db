package config

type WorkerKeyStruct struct {
	PersistSheetsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSheetsQueue: "persist_sheets_queue",
}
