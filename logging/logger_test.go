package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.viam.com/test"
)

type jointReport struct {
	Index    int
	Position float64
	note     string
}

// assertLogMatches checks one console line against expected. The timestamp only has to parse and
// the caller only has to name the same file.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) time.Time {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))

	stamp, err := time.Parse(DefaultTimeFormatStr, actualParts[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLine, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLine)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return stamp
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
	return stamp
}

func TestConsoleOutputFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger("worker", DEBUG, false, NewWriterAppender(buf))

	logger.Info("tick loop started")
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459-0400\tINFO\tworker\tlogging/logger_test.go:66\ttick loop started")

	logger.Debugw("step", "dt", 0.01, "status", "OK")
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459-0400\tDEBUG\tworker\tlogging/logger_test.go:70\tstep\t{\"dt\":0.01,\"status\":\"OK\"}")

	// Unexported struct fields are dropped by the json encoder.
	logger.Infow("report", "joint", jointReport{1, 0.5, "skipped"})
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459-0400\tINFO\tworker\tlogging/logger_test.go:75\treport\t{\"joint\":{\"Index\":1,\"Position\":0.5}}")

	logger.Warnw("fields", zap.Int("joint", 3), "error", os.ErrNotExist)
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459-0400\tWARN\tworker\tlogging/logger_test.go:79\tfields\t{\"joint\":3,\"error\":\"file does not exist\"}")

	logger.Errorw("unpaired", "dangling")
	assertLogMatches(t, buf,
		"2023-10-30T09:12:09.459-0400\tERROR\tworker\tlogging/logger_test.go:83\tunpaired\t{\"dangling\":\"unpaired log key\"}")
}

func TestUTCTimestamps(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewBlankLogger("worker")
	logger.AddAppender(NewWriterAppender(buf))

	before := time.Now().Add(-time.Second)
	logger.Info("in utc")
	stamp := assertLogMatches(t, buf,
		"2023-10-30T13:12:09.459Z\tINFO\tworker\tlogging/logger_test.go:93\tin utc")
	_, offset := stamp.Zone()
	test.That(t, offset, test.ShouldEqual, 0)
	test.That(t, stamp.After(before), test.ShouldBeTrue)
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger("worker", WARN, false, NewWriterAppender(buf))

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, strings.Count(buf.String(), "\n"), test.ShouldEqual, 1)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("now kept")
	test.That(t, strings.Count(buf.String(), "\n"), test.ShouldEqual, 2)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.SetLevel(INFO)

	solver := logger.Sublogger("solver")
	collision := solver.Sublogger("collision")
	test.That(t, solver.GetLevel(), test.ShouldEqual, INFO)

	// Levels are independent after creation.
	collision.SetLevel(ERROR)
	test.That(t, solver.GetLevel(), test.ShouldEqual, INFO)

	solver.Info("solver line")
	collision.Warn("suppressed")
	collision.Error("collision line")

	test.That(t, observed.Len(), test.ShouldEqual, 2)
	entries := observed.All()
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "solver")
	test.That(t, entries[1].LoggerName, test.ShouldEqual, "solver.collision")
	test.That(t, entries[1].Message, test.ShouldEqual, "collision line")
}

func TestSubloggerSharesAppenders(t *testing.T) {
	logger := NewBlankLogger("worker")
	motion := logger.Sublogger("motion")

	buf := &bytes.Buffer{}
	motion.AddAppender(NewWriterAppender(buf))
	logger.Info("from the root")
	motion.Info("from motion")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[0], test.ShouldContainSubstring, "\tworker\t")
	test.That(t, lines[1], test.ShouldContainSubstring, "\tworker.motion\t")
}

func TestGlobal(t *testing.T) {
	previous := Global()
	defer ReplaceGlobal(previous)

	logger := NewTestLogger(t)
	ReplaceGlobal(logger)
	test.That(t, Global(), test.ShouldEqual, logger)
}

func TestLevelFromProtocol(t *testing.T) {
	for verbosity, expected := range []Level{ERROR, ERROR, WARN, INFO, DEBUG} {
		level, err := LevelFromProtocol(verbosity)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromProtocol(MaxProtocolLevel + 1)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = LevelFromProtocol(-1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLevelFromString(t *testing.T) {
	for _, level := range []Level{DEBUG, INFO, WARN, ERROR} {
		parsed, err := LevelFromString(strings.ToUpper(level.String()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, level)
	}

	level, err := LevelFromString("Warning")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)

	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
	// zap knows panic and fatal, the worker does not.
	_, err = LevelFromString("fatal")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFileAppender(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "worker.log")
	logger := NewBlankLogger("worker")
	logger.AddAppender(NewFileAppender(FileAppenderConfig{Filename: filename}))

	logger.Infow("written", "joints", 6)
	test.That(t, logger.Sync(), test.ShouldBeNil)

	contents, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "written")
	test.That(t, string(contents), test.ShouldContainSubstring, `{"joints":6}`)
}
