// Package store defines the persistence contract for task records and the
// error taxonomy shared by every store implementation. The interfaces keep
// the executor, the status API, and the retention sweeper independent of the
// database behind them.
package store
