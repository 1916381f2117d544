// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"database/sql/driver"
	"errors"

	"regulus-go/pkg/log"

	"github.com/go-sql-driver/mysql"
)

// isTransientErr 判断是否为值得重试的瞬时存储错误：
// 连接已失效、InnoDB 死锁（1213）或锁等待超时（1205）。
// 约束冲突、找不到记录等确定性错误不属于瞬时错误。
func isTransientErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}

// withTransientRetry 执行 fn，瞬时失败时整体重试一次。
// 只用于包裹完整的事务：失败的事务已经回滚，重新执行
// 等价于一次全新的提交，不会产生部分写入。
func withTransientRetry(fn func() error) error {
	err := fn()
	if err == nil || !isTransientErr(err) {
		return err
	}
	log.Warnf("瞬时存储错误，重试一次: %v", err)
	return fn()
}
