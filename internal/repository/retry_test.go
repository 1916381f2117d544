package repository

import (
	"database/sql/driver"
	"fmt"
	"testing"

	"regulus-go/pkg/log"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	log.Init("error", "json", "")
	m.Run()
}

func TestWithTransientRetry(t *testing.T) {
	t.Parallel()

	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

	t.Run("死锁后重试一次并成功", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := withTransientRetry(func() error {
			calls++
			if calls == 1 {
				return deadlock
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("连接失效后重试一次", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := withTransientRetry(func() error {
			calls++
			if calls == 1 {
				return driver.ErrBadConn
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("包装过的瞬时错误同样识别", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := withTransientRetry(func() error {
			calls++
			if calls == 1 {
				return fmt.Errorf("tx failed: %w", deadlock)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("确定性错误不重试", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := withTransientRetry(func() error {
			calls++
			return gorm.ErrRecordNotFound
		})
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("最多只重试一次", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := withTransientRetry(func() error {
			calls++
			return deadlock
		})
		assert.ErrorIs(t, err, deadlock)
		assert.Equal(t, 2, calls)
	})
}

func TestIsTransientErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "死锁 1213", err: &mysql.MySQLError{Number: 1213}, transient: true},
		{name: "锁等待超时 1205", err: &mysql.MySQLError{Number: 1205}, transient: true},
		{name: "连接失效", err: driver.ErrBadConn, transient: true},
		{name: "唯一约束冲突 1062", err: &mysql.MySQLError{Number: 1062}, transient: false},
		{name: "记录不存在", err: gorm.ErrRecordNotFound, transient: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.transient, isTransientErr(tt.err))
		})
	}
}
