package wal

// Recover performs R1–R3: it reads every record, determines which
// transactions were left open at EOF, invokes cleanup once per incomplete
// transaction (R3a/b/c — removing the snapshot record and manifest file;
// chunks are never touched), and finally rewrites the WAL eliding those
// transactions' records (R3d). It returns the incomplete transactions it
// cleaned up, for logging/audit purposes.
func Recover(path string, cleanup func(OpenTxn) error) ([]OpenTxn, error) {
	records, err := ReadAll(path)
	if err != nil {
		return nil, err
	}

	incomplete := FindIncomplete(records)
	if len(incomplete) == 0 {
		return nil, nil
	}

	exclude := make(map[string]bool, len(incomplete))
	for _, t := range incomplete {
		if cleanup != nil {
			if err := cleanup(t); err != nil {
				return nil, err
			}
		}
		exclude[t.SID] = true
	}

	if err := Rewrite(path, records, exclude); err != nil {
		return nil, err
	}
	return incomplete, nil
}
