package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goenvml/pkg/config"
	"github.com/itohio/goenvml/pkg/engine"
	"github.com/itohio/goenvml/pkg/logger"
	"github.com/itohio/goenvml/pkg/model"
	"github.com/itohio/goenvml/pkg/normalize"
	"github.com/itohio/goenvml/pkg/sensor"
)

func testApp() *app {
	return &app{cfg: config.Default(), log: logger.Discard()}
}

func TestParseValues(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    normalize.Values
		wantErr bool
	}{
		{
			name: "valid",
			args: []string{"1.2", "25", "45", "60", "450"},
			want: normalize.Values{1.2, 25, 45, 60, 450},
		},
		{
			name: "missing readings",
			args: []string{"1.2", "-1", "-1", "-1", "-1"},
			want: normalize.Values{1.2, -1, -1, -1, -1},
		},
		{name: "too few", args: []string{"1", "2"}, wantErr: true},
		{name: "too many", args: []string{"1", "2", "3", "4", "5", "6"}, wantErr: true},
		{name: "not a number", args: []string{"1", "warm", "3", "4", "5"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValues(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe(t *testing.T) {
	b, err := model.Default()
	require.NoError(t, err)

	info := describe(b)
	assert.Equal(t, model.BuildID.String(), info.BuildID)
	assert.Equal(t, 5, info.InputArity)
	assert.Equal(t, 3, info.OutputArity)
	assert.Equal(t, 64, info.ArenaPlan)
	assert.Equal(t, 5*32+32+32*24+24+24*3+3, info.Params)
	require.Len(t, info.Layers, 3)
	assert.Equal(t, 5, info.Layers[0].In)
	assert.Equal(t, 3, info.Layers[2].Out)
	for _, l := range info.Layers {
		assert.Greater(t, l.RealMultiplier, 0.0)
	}

	var buf bytes.Buffer
	info.Path = "(embedded)"
	require.NoError(t, printInfo(&buf, info))
	assert.Contains(t, buf.String(), model.BuildID.String())
	assert.Contains(t, buf.String(), "64 needed")
}

func TestNewPipeline(t *testing.T) {
	a := testApp()
	p, b, err := a.newPipeline()
	require.NoError(t, err)
	assert.Equal(t, model.BuildID, b.Header.BuildID)
	assert.Equal(t, model.Labels(), p.Labels())

	res, err := p.Run(normalize.Values{1.5, 38, 25, 70, 500})
	require.NoError(t, err)
	assert.Equal(t, "high_temp", res.Label)
}

func TestNewPipelineMissingBundle(t *testing.T) {
	a := testApp()
	a.cfg.Model.Bundle = filepath.Join(t.TempDir(), "missing.envq")

	_, _, err := a.newPipeline()
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrModelInit)
}

func TestNewSourceReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(path, []byte("1000,1.20,25.00,45.00,60.00,450.00\n"), 0o644))

	a := testApp()
	src, err := a.newSource(false, path)
	require.NoError(t, err)
	require.NoError(t, src.Connect())

	r, ok := <-src.Readings()
	require.True(t, ok)
	assert.Equal(t, normalize.Values{1.2, 25, 45, 60, 450}, r.Values)
	require.NoError(t, src.Close())
}

func TestNewSourceMock(t *testing.T) {
	a := testApp()
	a.cfg.Mock.Scenario = "bogus"
	_, err := a.newSource(true, "")
	assert.Error(t, err)

	a.cfg.Mock.Scenario = "normal"
	src, err := a.newSource(true, "")
	require.NoError(t, err)
	assert.IsType(t, &sensor.Mock{}, src)
}
