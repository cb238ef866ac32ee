package db

import "time"

// MonthlyAggregate 记录上一自然月各项指标的算术平均值。
// MonthOfDate 固定为当月一日，唯一索引保证每月仅一条记录，
// 月度汇总任务重复执行时覆盖而非新增。
type MonthlyAggregate struct {
	ID          uint      `gorm:"primaryKey"`
	MonthOfDate time.Time `gorm:"uniqueIndex"`
	Payload     string    `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定自定义表名。
func (MonthlyAggregate) TableName() string {
	return "monthly_aggregates"
}
