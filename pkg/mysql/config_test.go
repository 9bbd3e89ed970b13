package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "without lock wait timeout",
			cfg:  Config{Host: "localhost", Port: 3306, User: "root", Password: "secret", DBName: "ledger"},
			want: "root:secret@tcp(localhost:3306)/ledger?charset=utf8mb4&loc=UTC&parseTime=True",
		},
		{
			name: "lock wait timeout in seconds",
			cfg:  Config{Host: "db", Port: 3307, User: "u", Password: "p", DBName: "d", LockWaitTimeout: 5 * time.Second},
			want: "u:p@tcp(db:3307)/d?charset=utf8mb4&innodb_lock_wait_timeout=5&loc=UTC&parseTime=True",
		},
		{
			name: "sub-second lock wait timeout rounds up to one second",
			cfg:  Config{Host: "db", Port: 3306, User: "u", Password: "p", DBName: "d", LockWaitTimeout: 200 * time.Millisecond},
			want: "u:p@tcp(db:3306)/d?charset=utf8mb4&innodb_lock_wait_timeout=1&loc=UTC&parseTime=True",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"info", "warn", "error", "silent", "", "unknown"} {
		assert.NotNil(t, newLogger(level), level)
	}
}
