package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/model"
)

func TestAttachmentProcessor(t *testing.T) {
	Convey("AttachmentProcessor 处理上传文件", t, func() {
		ctx := context.Background()

		Convey("超过 10 MiB 直接拒绝且不触发提取", func() {
			extractCalls := 0
			p := NewAttachmentProcessor(nil)
			p.ex.PDF = func([]byte) (string, error) {
				extractCalls++
				return "", nil
			}

			att := p.Process(ctx, FileInput{
				Name:        "big.pdf",
				ContentType: "application/pdf",
				Size:        12 << 20,
				Data:        nil, // 大小校验在读取内容之前
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusError)
			So(att.ErrorMessage, ShouldEqual, "File too large")
			So(extractCalls, ShouldEqual, 0)
			So(att.FileName, ShouldEqual, "big.pdf")
			So(att.FileSize, ShouldEqual, int64(12<<20))
		})

		Convey("图片内联成 data URL", func() {
			p := NewAttachmentProcessor(nil)
			data := []byte{0x89, 0x50, 0x4e, 0x47}

			att := p.Process(ctx, FileInput{
				Name:        "photo.png",
				ContentType: "image/png",
				Size:        int64(len(data)),
				Data:        data,
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusUploaded)
			So(att.DataURL, ShouldStartWith, "data:image/png;base64,")
			So(att.ExtractedText, ShouldBeEmpty)
			So(att.IsImage(), ShouldBeTrue)
		})

		Convey("PDF 提取失败标记错误但不影响其他附件", func() {
			p := NewAttachmentProcessor(nil)
			p.ex.PDF = func([]byte) (string, error) {
				return "", errors.New("bad xref")
			}

			att := p.Process(ctx, FileInput{
				Name:        "broken.pdf",
				ContentType: "application/pdf",
				Size:        128,
				Data:        []byte("%PDF-1.4 garbage"),
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusError)
			So(att.ErrorMessage, ShouldEqual, "Failed to extract PDF text")
		})

		Convey("DOCX 提取失败用对应的错误文案", func() {
			p := NewAttachmentProcessor(nil)
			p.ex.DOCX = func([]byte) (string, error) {
				return "", errors.New("not a zip")
			}

			att := p.Process(ctx, FileInput{
				Name: "report.docx",
				Size: 64,
				Data: []byte("junk"),
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusError)
			So(att.ErrorMessage, ShouldEqual, "Failed to extract DOCX text")
		})

		Convey("纯文本直接提取", func() {
			p := NewAttachmentProcessor(nil)

			att := p.Process(ctx, FileInput{
				Name:        "notes.md",
				ContentType: "text/markdown",
				Size:        20,
				Data:        []byte("# heading\nsome text"),
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusUploaded)
			So(att.ExtractedText, ShouldContainSubstring, "some text")
		})

		Convey("未知类型只记录元信息", func() {
			p := NewAttachmentProcessor(nil)

			att := p.Process(ctx, FileInput{
				Name:        "song.mp3",
				ContentType: "audio/mpeg",
				Size:        1024,
				Data:        make([]byte, 1024),
			})

			So(att.Status, ShouldEqual, model.AttachmentStatusUploaded)
			So(att.ExtractedText, ShouldBeEmpty)
			So(att.DataURL, ShouldBeEmpty)
		})

		Convey("按扩展名兜底识别类型", func() {
			p := NewAttachmentProcessor(nil)
			p.ex.PDF = func([]byte) (string, error) { return "pdf body", nil }

			att := p.Process(ctx, FileInput{
				Name: "paper.pdf",
				Size: 32,
				Data: []byte("%PDF"),
			})
			So(att.ExtractedText, ShouldEqual, "pdf body")
		})
	})
}

func TestOversizedAttachmentDoesNotBlockSend(t *testing.T) {
	Convey("超大附件被拒后发送仍可进行", t, func() {
		ctx := context.Background()
		p := NewAttachmentProcessor(nil)

		bad := p.Process(ctx, FileInput{
			Name:        "big.pdf",
			ContentType: "application/pdf",
			Size:        12 << 20,
		})
		good := p.Process(ctx, FileInput{
			Name:        "notes.txt",
			ContentType: "text/plain",
			Size:        16,
			Data:        []byte("keep this"),
		})
		So(bad.Status, ShouldEqual, model.AttachmentStatusError)
		So(good.Status, ShouldEqual, model.AttachmentStatusUploaded)

		convs := newMemConversations()
		msgs := &memMessages{}
		atts := &memAttachments{}
		completer := &scriptCompleter{contents: []string{"done"}}
		engine := newTestEngine(convs, msgs, atts, &recordingQuota{}, completer, "llama-free")

		// 被拒的附件留在草稿里提示用户，发送只带有效附件
		res, err := engine.Send(ctx, NewSession("u1"), SendRequest{
			Text:        "use the notes",
			Attachments: []*model.Attachment{good},
		})
		So(err, ShouldBeNil)
		So(res.Content, ShouldEqual, "done")

		outbound := completer.calls[0]
		last := outbound[len(outbound)-1]
		So(last.Content, ShouldContainSubstring, "keep this")
		So(strings.Contains(last.Content, "big.pdf"), ShouldBeFalse)
	})
}
