// Package storage groups the realizations of the goAccounts storage contract.
//
// Every backend under this directory implements
// goAccounts.DatabaseInterface and is checked against the shared suite in
// storage/storagetest.
package storage
