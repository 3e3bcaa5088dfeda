package postgres

// queryListTables reads the catalog directly. $1 is a text[] of schemas; an
// empty array means every schema except the system ones. reltuples is -1
// for relations that were never analyzed.
const queryListTables = `
	SELECT
		n.nspname,
		c.relname,
		GREATEST(c.reltuples, 0)::bigint,
		(SELECT count(*)::int FROM pg_catalog.pg_attribute a
		 WHERE a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped),
		COALESCE(pg_catalog.obj_description(c.oid, 'pg_class'), '')
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('r', 'p', 'v', 'm')
		AND CASE
			WHEN cardinality($1::text[]) = 0
				THEN n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
			ELSE n.nspname = ANY($1::text[])
		END
	ORDER BY n.nspname, c.relname`
