package activation

// SyncWrites reports whether s fsyncs each committed write.
func SyncWrites(s *Store) bool { return s.db.Opts().SyncWrites }
