package log2

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		level  Level
		emit   func(l *Log)
		expect string
	}{
		{"debug-shown", LDebug, func(l *Log) { l.Debugf("socket %s", "open") }, "debug: socket open\n"},
		{"debug-hidden", LInfo, func(l *Log) { l.Debugf("socket %s", "open") }, ""},
		{"info", LInfo, func(l *Log) { l.Infof("pongs=%d", 3) }, "pongs=3\n"},
		{"info-hidden", LError, func(l *Log) { l.Infof("pongs=%d", 3) }, ""},
		{"error", LError, func(l *Log) { l.Errorf("dial refused") }, "error: dial refused\n"},
		{"printf", LInfo, func(l *Log) { l.Printf("paho state=%s", "connected") }, "paho state=connected\n"},
		{"println", LInfo, func(l *Log) { l.Println("paho connection lost") }, "paho connection lost\n"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			buf := bytes.NewBuffer(nil)
			l := NewWriter(buf, c.level)
			l.SetFlags(0)
			c.emit(l)
			assert.Equal(t, c.expect, buf.String())
		})
		t.Run(c.name+"/logger=nil", func(t *testing.T) {
			t.Parallel()
			c.emit(nil)
		})
	}
}

func TestCallerFile(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LAll)
	l.SetFlags(log.Lshortfile)
	_, file, line, ok := runtime.Caller(0)
	require.True(t, ok)
	l.Infof("here")
	short := file[strings.LastIndexByte(file, '/')+1:]
	assert.Equal(t, fmt.Sprintf("%s:%d: here\n", short, line+2), buf.String())
}

func TestErrorFunc(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	l := NewWriter(buf, LError)
	l.SetFlags(0)
	var got error
	l.SetErrorFunc(func(e error) { got = e })

	exact := fmt.Errorf("broker gone")
	l.Error(exact)
	assert.Equal(t, exact, got)

	l.Errorf("keepalive round=%d", 7)
	require.Error(t, got)
	assert.Equal(t, "keepalive round=7", got.Error())
	assert.Equal(t, "error: broker gone\nerror: keepalive round=7\n", buf.String())
}

func TestClone(t *testing.T) {
	t.Parallel()

	buf := bytes.NewBuffer(nil)
	parent := NewWriter(buf, LError)
	parent.SetFlags(0)
	child := parent.Clone(LDebug)
	parent.Debugf("hidden")
	child.Debugf("shown")
	assert.Equal(t, "debug: shown\n", buf.String())

	var nilLog *Log
	assert.Nil(t, nilLog.Clone(LDebug))
}

func TestContextValueLogger(t *testing.T) {
	t.Parallel()

	l := NewWriter(bytes.NewBuffer(nil), LInfo)
	ctx := context.WithValue(context.Background(), ContextKey, l) //nolint:staticcheck
	assert.Equal(t, l, ContextValueLogger(ctx, ContextKey))
	assert.Panics(t, func() { ContextValueLogger(context.Background(), ContextKey) })
}

func BenchmarkInfof(b *testing.B) {
	cases := []struct {
		name  string
		level Level
	}{
		{"write", LInfo},
		{"level-skip", LError},
	}
	for _, c := range cases {
		buf := bytes.NewBuffer(nil)
		l := NewWriter(buf, c.level)
		l.SetFlags(0)
		b.Run(c.name, func(b *testing.B) {
			b.ReportAllocs()
			buf.Reset()
			for i := 0; i < b.N; i++ {
				l.Infof("ping round=%d", i)
			}
		})
	}
}
