package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
)

const (
	exportSheet       = "Sheet1"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportMailSubject = "Leaderboard export"
)

var exportHeader = []interface{}{
	"Rank", "User ID", "Name", "Total points", "Notes uploaded", "Questions answered",
	"Flashcards created", "Collaborative posts", "Answers upvoted", "Level", "Last updated",
}

// export writes the leaderboard matching filter to an XLSX file, and mails it to mailTo when set.
func (cli *commandLine) export(path string, filter points.LeaderboardFilter, mailTo string) error {
	var to *mail.Address
	if mailTo != "" {
		addr, err := mail.ParseAddress(mailTo)
		if err != nil {
			return errors.Wrap(err, "parsing -mail")
		}
		to = addr
	}

	rows, err := cli.pointsSvc.GetLeaderboard(context.Background(), filter)
	if err != nil {
		return err
	}
	if err = writeLeaderboard(path, rows); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "exported %d rows to %s\n", len(rows), path)

	if to == nil {
		return nil
	}
	return cli.mailExport(path, *to, len(rows))
}

func writeLeaderboard(path string, rows []points.Row) error {
	f := excelize.NewFile()
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			row.Rank,
			row.UserID,
			row.DisplayName,
			row.TotalPoints,
			row.NotesUploaded,
			row.QuestionsAnswered,
			row.FlashcardsCreated,
			row.CollaborativePosts,
			row.AnswersUpvoted,
			string(row.Level),
			row.LastUpdated.UTC().Format(time.RFC3339),
		}
		if err = f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return errors.Wrapf(err, "writing row %d", i+1)
		}
	}

	return errors.Wrap(f.SaveAs(path), "saving export")
}

func (cli *commandLine) mailExport(path string, to mail.Address, count int) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "reading export")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	msg := &core.EmailMessage{
		To:      []mail.Address{to},
		Subject: exportMailSubject,
		BodyStr: fmt.Sprintf("The leaderboard export (%d rows) is attached.", count),
	}
	if err = msg.Attach(file, filepath.Base(path), xlsxContentType); err != nil {
		return errors.Wrap(err, "attaching export")
	}
	cli.mailer.SendMessages(msg)
	fmt.Fprintf(cli.out, "mailed export to %s\n", to.Address)
	return nil
}
