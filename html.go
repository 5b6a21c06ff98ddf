/*
Copyright © 2026 xeeen
*/

package main

import (
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

//go:embed assets/mafia/index.html
var indexHTML []byte

//go:embed assets/mafia/app.css
var mafiaCSS []byte

//go:embed assets/mafia/app.js
var mafiaJS []byte

const playerCookieName = "mafia_id"

// getOrSetPlayerID issues the opaque token a browser uses to claim its seat.
// The cookie is intentionally script-readable: the client echoes it back in
// every websocket event.
func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && validID(c.Value) {
		return c.Value
	}

	id := newID()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

func serveHomePage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		var page strings.Builder

		page.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
		page.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/mafia/app.css">`, cfg.prefix))
		page.WriteString(`<title>Mafia</title></head><body class="home">`)
		page.WriteString(`<h1>Mafia</h1>`)
		page.WriteString(fmt.Sprintf(`<a class="button" href="%s/find">Find a game</a>`, cfg.prefix))
		page.WriteString(fmt.Sprintf(`<a class="button" href="%s/new">Create a room</a>`, cfg.prefix))
		page.WriteString(`</body></html>`)

		_, _ = w.Write([]byte(page.String()))
	}
}

// serveLoadingPage renders an interstitial that asks the server for a room
// over the websocket and redirects once roomIDReturned arrives. The action
// rides on a data attribute so the page itself stays script-free.
func serveLoadingPage(cfg *Config, action, message string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		var page strings.Builder

		page.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
		page.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/mafia/app.css">`, cfg.prefix))
		page.WriteString(fmt.Sprintf(`<script src="%s/assets/mafia/app.js" defer></script>`, cfg.prefix))
		page.WriteString(`<title>Mafia</title></head>`)
		page.WriteString(fmt.Sprintf(`<body class="loading" data-action="%s" data-prefix="%s">`, action, cfg.prefix))
		page.WriteString(fmt.Sprintf(`<p>%s</p>`, message))
		page.WriteString(`</body></html>`)

		_, _ = w.Write([]byte(page.String()))
	}
}

// serveRoomPage hands out the client for a live room, or a 404 page when the
// id is malformed or the room is gone.
func serveRoomPage(cfg *Config, mgr *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		roomID := p.ByName("roomid")

		if !validID(roomID) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Not Found", "That room does not exist.")))

			return
		}

		if _, ok := mgr.get(roomID); !ok {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Not Found", "That room does not exist.")))

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(mafiaCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(mafiaJS)
	}
}
