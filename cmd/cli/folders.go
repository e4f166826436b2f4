package main

import (
	"context"
	"fmt"

	"github.com/emx-mail/mailrows/pkgs/config"
)

func (a *app) handleFolders(ctx context.Context, acc *config.AccountConfig) error {
	client, err := a.connect(acc)
	if err != nil {
		return err
	}

	folders, err := client.ListFolders(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Folders:")
	for _, f := range folders {
		flags := ""
		if f.ReadOnly {
			flags = " [read-only]"
		}
		fmt.Printf("  %s%s\n", f.Name, flags)
	}
	return nil
}
