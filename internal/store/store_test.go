package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDuplicateKeyDetection(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("create lead: %w", gorm.ErrDuplicatedKey)))

	// The raw driver error, in case translation is ever disabled.
	raw := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'ceo@acme.test' for key 'leads.email'"}
	assert.True(t, isDuplicateKey(fmt.Errorf("create lead: %w", raw)))

	assert.False(t, isDuplicateKey(errors.New("connection refused")))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}))
}
