package model

import "time"

// 每日查询次数上限
const DailyQueryLimit = 50

// User 用户文档
type User struct {
	ID              string    `bson:"_id" json:"id"`
	Email           string    `bson:"email" json:"email"`
	ProviderAPIKey  string    `bson:"provider_api_key,omitempty" json:"-"`
	DailyQueryCount int       `bson:"daily_query_count" json:"dailyQueryCount"`
	LastQueryReset  time.Time `bson:"last_query_reset" json:"lastQueryReset"`
	CreatedAt       time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updatedAt"`
}
