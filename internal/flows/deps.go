package flows

// Deps groups flow dependency sets. Each realm builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Login  LoginDeps
	Backup BackupCodeDeps
}
