package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTruncate(t *testing.T) {
	Convey("Truncate 截断语义", t, func() {
		Convey("不超限的文本原样返回", func() {
			So(Truncate("hello"), ShouldEqual, "hello")
			So(Truncate(""), ShouldEqual, "")
		})

		Convey("恰好到上限不追加标记", func() {
			s := strings.Repeat("a", MaxChars)
			So(Truncate(s), ShouldEqual, s)
		})

		Convey("超限时保留前 16000 个字符并追加固定标记", func() {
			s := strings.Repeat("a", MaxChars+5000)
			got := Truncate(s)
			So(got, ShouldEqual, strings.Repeat("a", MaxChars)+TruncationMarker)
		})

		Convey("按字符而不是字节截断", func() {
			s := strings.Repeat("汉", MaxChars+1)
			got := Truncate(s)
			So(strings.HasSuffix(got, TruncationMarker), ShouldBeTrue)
			kept := strings.TrimSuffix(got, TruncationMarker)
			So(utf8.RuneCountInString(kept), ShouldEqual, MaxChars)
		})
	})
}

func TestPlainText(t *testing.T) {
	Convey("PlainText 读取文本内容", t, func() {
		Convey("普通文本原样保留", func() {
			got, err := PlainText([]byte("# title\nbody"))
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "# title\nbody")
		})

		Convey("非法 UTF-8 字节被替换而不是报错", func() {
			got, err := PlainText([]byte{'o', 'k', 0xff, 0xfe})
			So(err, ShouldBeNil)
			So(strings.HasPrefix(got, "ok"), ShouldBeTrue)
			So(utf8.ValidString(got), ShouldBeTrue)
		})

		Convey("超长文本走统一截断", func() {
			got, err := PlainText([]byte(strings.Repeat("x", MaxChars+100)))
			So(err, ShouldBeNil)
			So(strings.HasSuffix(got, TruncationMarker), ShouldBeTrue)
		})
	})
}
