package clickhouse

import "fmt"

// ValidationTable holds one row per fetched validation outcome.
const ValidationTable = "price_validations"

// ValidationSchema returns the DDL for the validation history, 90 days retained.
func ValidationSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	event_id        UUID,
	validated_at    DateTime64(3, 'UTC'),
	pair            LowCardinality(String),
	consensus_price Float64,
	sources_count   UInt8,
	variance        Float64,
	is_valid        UInt8,
	reason          LowCardinality(String),
	sources         Array(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(validated_at)
ORDER BY (pair, validated_at)
TTL toDateTime(validated_at) + INTERVAL 90 DAY`, database, ValidationTable),
	}
}
