package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shaiso/redeploy/internal/domain"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

// NewOutputTo создаёт Output с явными потоками.
func NewOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        w,
		errW:     errW,
	}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Warn выводит предупреждение в stderr.
func (o *Output) Warn(msg string) {
	fmt.Fprintln(o.errW, "Warning: "+msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// resultView — Result для JSON-вывода: Cause в виде строки и итог попытки.
type resultView struct {
	*domain.Result
	Outcome domain.OutcomeStatus `json:"outcome"`
	Cause   string               `json:"cause,omitempty"`
}

func outcomeOf(res *domain.Result) domain.OutcomeStatus {
	if res.RolledBack {
		return domain.OutcomeRolledBack
	}
	return domain.OutcomeSucceeded
}

// Result выводит итог попытки и процессы pm2.
func (o *Output) Result(res *domain.Result) {
	if o.jsonMode {
		o.JSON(resultView{Result: res, Outcome: outcomeOf(res), Cause: res.CauseMessage()})
		return
	}

	o.Table(
		[]string{"NAME", "BRANCH", "COMMIT", "OUTCOME", "INSTANCES", "DURATION"},
		[][]string{{
			res.Name,
			res.Branch,
			res.Commit.ShortID(),
			string(outcomeOf(res)),
			strconv.Itoa(res.Instances),
			res.Duration().Round(time.Millisecond).String(),
		}},
	)

	if len(res.Processes) > 0 {
		fmt.Fprintln(o.w)
		o.Processes(res.Processes)
	}
}

// Processes выводит таблицу экземпляров pm2.
func (o *Output) Processes(procs []domain.ProcessInfo) {
	rows := make([][]string, len(procs))
	for i, p := range procs {
		rows[i] = []string{strconv.Itoa(p.ID), p.Name, strconv.Itoa(p.PID), p.Status}
	}
	o.Table([]string{"PM_ID", "NAME", "PID", "STATUS"}, rows)
}

// Event выводит одно событие итога: строку в табличном режиме или JSON-объект.
func (o *Output) Event(outcome domain.Outcome) {
	if o.jsonMode {
		json.NewEncoder(o.w).Encode(outcome)
		return
	}

	line := fmt.Sprintf("%s  %-12s %-10s %-8s %s",
		outcome.Timestamp.Format(time.RFC3339),
		outcome.Status,
		outcome.Name,
		shortID(outcome.CommitID),
		outcome.Branch,
	)
	if outcome.Cause != "" {
		line += "  cause: " + outcome.Cause
	}
	if outcome.Error != "" {
		line += "  error: " + outcome.Error
	}
	fmt.Fprintln(o.w, line)
}

func shortID(id string) string {
	return domain.Commit{ID: id}.ShortID()
}
