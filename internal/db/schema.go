package db

// Table names.
const (
	TableRound          = "round_run"
	TableTemplate       = "round_template"
	TableCheckpointCode = "checkpoint_code"
)

// Tables lists every table the application writes, in deletion order.
var Tables = []string{
	TableRound, TableTemplate, TableCheckpointCode,
	"manual_round", "pedestrian_access", "vehicle_access", "incident",
}

// SchemaSQL contains the database schema initialization SQL.
// Tables are schemaless: records carry reconnect markers and free-form
// answers, but the fields used for lookups are indexed.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS round_run SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS state ON round_run TYPE string
        ASSERT $value IN ["IN_PROGRESS", "TERMINATED", "INCOMPLETE", "NOT_DONE"];
    DEFINE INDEX IF NOT EXISTS round_operator_state ON round_run FIELDS operator.id, state;
    DEFINE INDEX IF NOT EXISTS round_unit_started ON round_run FIELDS client, unit, started_at;

    DEFINE TABLE IF NOT EXISTS round_template SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS template_unit ON round_template FIELDS client, unit;

    DEFINE TABLE IF NOT EXISTS checkpoint_code SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS checkpoint_code_unit ON checkpoint_code FIELDS client, unit, code;

    DEFINE TABLE IF NOT EXISTS manual_round SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS pedestrian_access SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS vehicle_access SCHEMALESS;
    DEFINE TABLE IF NOT EXISTS incident SCHEMALESS;
`
