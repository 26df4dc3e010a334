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

// AttachmentRepo 附件仓库
type AttachmentRepo struct {
	collection *mongo.Collection
}

// NewAttachmentRepo 创建附件仓库
func NewAttachmentRepo(db *mongo.Database) *AttachmentRepo {
	return &AttachmentRepo{
		collection: db.Collection("attachments"),
	}
}

// Create 写入附件记录
func (r *AttachmentRepo) Create(ctx context.Context, att *model.Attachment) error {
	if att.ID == "" {
		att.ID = id.New()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}

	_, err := r.collection.InsertOne(ctx, att)
	return err
}

// Save 以附件 ID 为准整条落库，已存在则覆盖
// 发送管线绑定 message_id 时附件可能已经在上传阶段入库
func (r *AttachmentRepo) Save(ctx context.Context, att *model.Attachment) error {
	if att.ID == "" {
		att.ID = id.New()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": att.ID}, att, opts)
	return err
}

// FindByID 根据 ID 查询
func (r *AttachmentRepo) FindByID(ctx context.Context, attID string) (*model.Attachment, error) {
	var att model.Attachment
	if err := r.collection.FindOne(ctx, bson.M{"_id": attID}).Decode(&att); err != nil {
		return nil, err
	}
	return &att, nil
}

// FindByIDs 批量查询附件
func (r *AttachmentRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Attachment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var atts []*model.Attachment
	if err := cursor.All(ctx, &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// ListByMessage 查询消息关联的附件
func (r *AttachmentRepo) ListByMessage(ctx context.Context, msgID string) ([]*model.Attachment, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"message_id": msgID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var atts []*model.Attachment
	if err := cursor.All(ctx, &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// BindMessage 将附件挂到消息上
func (r *AttachmentRepo) BindMessage(ctx context.Context, attID, msgID string) error {
	_, err := r.collection.UpdateByID(ctx, attID, bson.M{
		"$set": bson.M{"message_id": msgID},
	})
	return err
}
