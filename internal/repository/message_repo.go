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

// MessageRepo 消息仓库
type MessageRepo struct {
	collection *mongo.Collection
}

// NewMessageRepo 创建消息仓库
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection("messages"),
	}
}

// Create 写入消息，ID 为空时生成新 ID
func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = id.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := r.collection.InsertOne(ctx, msg)
	return err
}

// FindByID 根据 ID 查询
func (r *MessageRepo) FindByID(ctx context.Context, msgID string) (*model.Message, error) {
	var msg model.Message
	if err := r.collection.FindOne(ctx, bson.M{"_id": msgID}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByConversation 按创建时间正序读取会话全部消息
func (r *MessageRepo) ListByConversation(ctx context.Context, convID string) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateContent 更新消息内容（流式累计全文覆盖写入）
func (r *MessageRepo) UpdateContent(ctx context.Context, msgID, content string) error {
	_, err := r.collection.UpdateByID(ctx, msgID, bson.M{
		"$set": bson.M{"content": content},
	})
	return err
}

// SetTokensUsed 回填消息的 token 用量
func (r *MessageRepo) SetTokensUsed(ctx context.Context, msgID string, tokens int) error {
	_, err := r.collection.UpdateByID(ctx, msgID, bson.M{
		"$set": bson.M{"tokens_used": tokens},
	})
	return err
}

// DeleteByConversation 删除会话下全部消息
func (r *MessageRepo) DeleteByConversation(ctx context.Context, convID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"conversation_id": convID})
	return err
}
