// Package errors defines sentinel errors for envault operations.
//
// Errors are grouped by concern: key custody, document cryptography, the
// external vault, the execution environment, project state, and document
// files. Components wrap these sentinels with context using
// fmt.Errorf("%w: ...") so callers can match them with errors.Is while the
// CLI boundary maps each group to a distinct exit code.
//
// Two rules hold everywhere:
//
//   - ErrWrongKey and ErrIntegrity stay distinguishable. A key mismatch and
//     a tampered ciphertext are different diagnoses, and both fail closed.
//   - ErrVaultAuth never discloses whether the requested entry exists, to
//     avoid oracle behavior against the vault.
package errors
