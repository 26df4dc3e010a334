package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
	"pomelo/internal/pkg/id"
)

// ConversationRepo 会话仓库
type ConversationRepo struct {
	collection *mongo.Collection
}

// NewConversationRepo 创建会话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection("conversations"),
	}
}

// Create 创建会话，ID 为空时生成新 ID
func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		conv.ID = id.New()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = now
	}

	_, err := r.collection.InsertOne(ctx, conv)
	return err
}

// FindByID 根据 ID 查询
func (r *ConversationRepo) FindByID(ctx context.Context, convID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.collection.FindOne(ctx, bson.M{"_id": convID}).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindByIDForUser 查询并校验归属用户
func (r *ConversationRepo) FindByIDForUser(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": convID, "user_id": userID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByUserID 查询用户会话列表，按最近消息时间倒序
func (r *ConversationRepo) ListByUserID(ctx context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "last_message_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID, "archived": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CountByUserID 统计用户会话数量
func (r *ConversationRepo) CountByUserID(ctx context.Context, userID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "archived": false})
}

// Update 更新会话字段
func (r *ConversationRepo) Update(ctx context.Context, convID string, update bson.M) error {
	if setDoc, ok := update["$set"].(bson.M); ok {
		setDoc["updated_at"] = time.Now()
	} else {
		update["$set"] = bson.M{"updated_at": time.Now()}
	}
	_, err := r.collection.UpdateByID(ctx, convID, update)
	return err
}

// TouchLastMessage 刷新最近消息时间
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, convID string, at time.Time) error {
	_, err := r.collection.UpdateByID(ctx, convID, bson.M{
		"$set": bson.M{"last_message_at": at, "updated_at": time.Now()},
	})
	return err
}

// Delete 删除会话
func (r *ConversationRepo) Delete(ctx context.Context, convID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": convID})
	return err
}
