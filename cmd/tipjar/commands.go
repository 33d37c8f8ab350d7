package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	tipjar "github.com/surgesocial/tipjar/pkg"
)

/*
	These commands are convenience CLI tools that operate on a
	running TipJar by calling the admin REST API.
*/

// Sweep runs one sweep of stale pending tips on the server.
func Sweep(c tipjar.Config, s SubCommandArgs) error {
	u, err := adminAPIURL(c, s, "/admin/sweep")
	if err != nil {
		return err
	}
	var report tipjar.SweepReport
	err = postURL(u, nil, &report)
	if err != nil {
		return err
	}
	fmt.Printf("stale: %d, processed: %d, settled: %d, locks reverted: %d\n",
		report.Found, report.Processed, report.Settled, report.StaleLocks)
	return nil
}

// RegisterTarget makes a target tippable, owned by owner.
func RegisterTarget(targetRef string, owner string, c tipjar.Config, s SubCommandArgs) error {
	u, err := adminAPIURL(c, s, "/target/"+url.PathEscape(targetRef))
	if err != nil {
		return err
	}
	var target tipjar.Target
	err = postURL(u, tipjar.RegisterTargetRequest{Owner: tipjar.Address(owner)}, &target)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s (owner %s)\n", target.Ref, target.Owner)
	return nil
}

// ProcessTip processes one tip now and prints its resulting state.
func ProcessTip(tipID string, c tipjar.Config, s SubCommandArgs) error {
	u, err := adminAPIURL(c, s, "/admin/tip/"+url.PathEscape(tipID)+"/process")
	if err != nil {
		return err
	}
	var tip tipjar.PublicTip
	err = postURL(u, nil, &tip)
	if err != nil {
		return err
	}
	fmt.Printf("tip %s: %s", tip.ID, tip.Status)
	if tip.FailureReason != "" {
		fmt.Printf(" (%s)", tip.FailureReason)
	}
	fmt.Println()
	return nil
}

// work out the remote admin URL from args or config and return
// a complete path with our best guess
func adminAPIURL(c tipjar.Config, s SubCommandArgs, path string) (string, error) {
	base := ""
	if s.RemoteAdminServer != "" {
		base = s.RemoteAdminServer
	} else {
		host := c.WebAPI.AdminBind
		if host == "" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%s/", host, c.WebAPI.AdminPort)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	p, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return u.ResolveReference(p).String(), nil
}

// post a command to a remote TipJar admin API, decoding the reply into out
func postURL(url string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to serialize request body: %v", err)
	}
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected response status code: %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
