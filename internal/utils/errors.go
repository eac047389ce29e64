package utils

import "errors"

// ----------------- storage ------------------
var (
	ErrStorageEmptyHostName       = errors.New("host name is empty")
	ErrStorageInvalidPortNumber   = errors.New("port number is empty")
	ErrStorageEmptyUsername       = errors.New("username is empty")
	ErrStorageEmptyPassword       = errors.New("password is empty")
	ErrStorageInvalidDatabaseName = errors.New("database name is empty")
	ErrStorageInvalidSslMode      = errors.New("SSL mode is invalid")
	ErrStorageInvalidPoolSize     = errors.New("pool size is invalid")
	ErrStorageInvalidTimeout      = errors.New("timeout is invalid")
)

// ----------------- cache ------------------
var (
	ErrCacheMiss = errors.New("cache miss")
)

// ----------------- catalog ------------------
var (
	ErrRecordNotFound   = errors.New("catalog record not found")
	ErrSyncRunNotFound  = errors.New("sync run not found")
	ErrUnknownSource    = errors.New("unknown sync source")
	ErrInvalidSyncMode  = errors.New("invalid sync mode")
	ErrSyncAlreadyBusy  = errors.New("sync already running for this source")
	ErrInvalidRecordKey = errors.New("invalid record identity")
)
