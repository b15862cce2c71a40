// Package logger provides leveled CLI logging with secret redaction.
//
// Infof and Debugf are gated behind the --verbose and --debug flags;
// Warnf follows verbosity while WarnfAlways and Errorf always print.
// The Secret type and Redact helper guarantee that key material and
// decrypted values never reach log output even when interpolated by
// mistake.
package logger
