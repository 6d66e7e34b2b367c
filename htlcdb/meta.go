package htlcdb

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// metaBucket stores all the meta information concerning the state of
	// the database.
	metaBucketKey = []byte("metadata")

	// dbVersionKey is a boltdb key and it's used for storing/retrieving
	// current database version.
	dbVersionKey = []byte("dbp")

	// commitSeqKey stores the last issued commitment sequence number.
	commitSeqKey = []byte("commit-seq")

	// ErrDBReversion is returned when detecting an attempt to revert to a
	// prior database version.
	ErrDBReversion = fmt.Errorf("htlc db cannot revert to prior version")
)

// migration is a function which takes a prior outdated version of the database
// instances and mutates the key/bucket structure to arrive at a more
// up-to-date version of the database.
type migration func(tx *bbolt.Tx) error

var (
	// migrations holds all migrations of the database, the migration at
	// index i upgrades version i to version i+1.
	migrations = []migration{
		migrateSenderIndex,
	}

	latestDBVersion = uint32(len(migrations))
)

// getDBVersion retrieves the current db version.
func getDBVersion(db *bbolt.DB) (uint32, error) {
	var version uint32

	err := db.View(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket(metaBucketKey)
		if metaBucket == nil {
			return errors.New("bucket does not exist")
		}

		data := metaBucket.Get(dbVersionKey)
		// If no version key found, assume version is 0.
		if data != nil {
			version = byteOrder.Uint32(data)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setDBVersion updates the current db version.
func setDBVersion(tx *bbolt.Tx, version uint32) error {
	metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
	if err != nil {
		return fmt.Errorf("set db version: %v", err)
	}

	scratch := make([]byte, 4)
	byteOrder.PutUint32(scratch, version)
	return metaBucket.Put(dbVersionKey, scratch)
}

// syncVersions applies all pending migrations in a single transaction, so a
// failing migration leaves the database untouched.
func syncVersions(db *bbolt.DB) error {
	currentVersion, err := getDBVersion(db)
	if err != nil {
		return err
	}

	log.Infof("Checking for schema update: latest_version=%v, "+
		"db_version=%v", latestDBVersion, currentVersion)

	switch {
	// A higher version than we know of means the user downgraded. We
	// refuse to touch the data in that case.
	case currentVersion > latestDBVersion:
		log.Errorf("Refusing to revert from db_version=%d to "+
			"lower version=%d", currentVersion,
			latestDBVersion)

		return ErrDBReversion

	case currentVersion == latestDBVersion:
		return nil
	}

	log.Infof("Performing database schema migration")

	return db.Update(func(tx *bbolt.Tx) error {
		for v := currentVersion; v < latestDBVersion; v++ {
			log.Infof("Applying migration #%v", v+1)

			migration := migrations[v]
			if err := migration(tx); err != nil {
				log.Infof("Unable to apply migration #%v",
					v+1)
				return err
			}
		}

		return setDBVersion(tx, latestDBVersion)
	})
}

// migrateSenderIndex builds the per sender index for databases created before
// the index existed.
func migrateSenderIndex(tx *bbolt.Tx) error {
	return rebuildIndex(tx)
}
