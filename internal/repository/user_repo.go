package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// UserRepo 用户仓库
type UserRepo struct {
	collection *mongo.Collection
}

// NewUserRepo 创建用户仓库
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// FindByID 根据 ID 查询
func (r *UserRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetProviderKey 保存用户自带的模型 API Key
func (r *UserRepo) SetProviderKey(ctx context.Context, userID, key string) error {
	_, err := r.collection.UpdateByID(ctx, userID, bson.M{
		"$set": bson.M{"provider_api_key": key, "updated_at": time.Now()},
	})
	return err
}

// ResetDailyQuota 新的一天首次查询时把剩余次数重置为上限
// 返回重置后的用户文档
func (r *UserRepo) ResetDailyQuota(ctx context.Context, userID string, limit int, at time.Time) (*model.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user model.User
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"daily_query_count": limit,
			"last_query_reset":  at,
			"updated_at":        time.Now(),
		}},
		opts,
	).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DecrementDailyQuota 原子扣减一次查询配额
// 剩余次数为 0 时条件不命中，返回 mongo.ErrNoDocuments，调用方据此拒绝请求
func (r *UserRepo) DecrementDailyQuota(ctx context.Context, userID string) (*model.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user model.User
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "daily_query_count": bson.M{"$gt": 0}},
		bson.M{
			"$inc": bson.M{"daily_query_count": -1},
			"$set": bson.M{"updated_at": time.Now()},
		},
		opts,
	).Decode(&user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
