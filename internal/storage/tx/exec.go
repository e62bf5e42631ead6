package tx

// ExecuteRead runs fn in a read transaction on a fresh session. The
// transaction is always ended.
func ExecuteRead(b *Base, fn func(t *Transaction) error) error {
	return ExecuteReadSession(b, func(s *Session) error {
		return fn(s.Transaction())
	})
}

// ExecuteReadSession is ExecuteRead for callers that wrap the session.
func ExecuteReadSession(b *Base, fn func(s *Session) error) error {
	s := b.NewSession()
	if err := s.Begin(ModeRead); err != nil {
		return err
	}
	defer s.End()

	if err := fn(s); err != nil {
		return err
	}
	return s.Commit()
}

// ExecuteWrite runs fn in a write transaction and commits it if fn
// succeeds. On error the transaction is aborted.
func ExecuteWrite(b *Base, fn func(t *Transaction) error) error {
	return ExecuteWriteSession(b, func(s *Session) error {
		return fn(s.Transaction())
	})
}

// ExecuteWriteSession is ExecuteWrite for callers that wrap the session.
func ExecuteWriteSession(b *Base, fn func(s *Session) error) error {
	_, err := CalculateWriteSession(b, func(s *Session) (struct{}, error) {
		return struct{}{}, fn(s)
	})
	return err
}

// CalculateWrite is ExecuteWrite for functions that return a value.
func CalculateWrite[T any](b *Base, fn func(t *Transaction) (T, error)) (T, error) {
	return CalculateWriteSession(b, func(s *Session) (T, error) {
		return fn(s.Transaction())
	})
}

// CalculateWriteSession is CalculateWrite for callers that wrap the
// session.
func CalculateWriteSession[T any](b *Base, fn func(s *Session) (T, error)) (T, error) {
	var zero T

	s := b.NewSession()
	if err := s.Begin(ModeWrite); err != nil {
		return zero, err
	}
	defer s.End()

	v, err := fn(s)
	if err != nil {
		s.Abort()
		return zero, err
	}
	if err := s.Commit(); err != nil {
		return zero, err
	}
	return v, nil
}
