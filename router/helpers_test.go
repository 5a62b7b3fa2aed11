package router

import (
	"strconv"
	"testing"

	"gorm.io/gorm"

	"dm-service/testutil"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.DB(t)
}

func uintString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
