// Package brandkit defines the job model, the brand kit result, and the
// collaborator interfaces shared by the orchestration core.
package brandkit
