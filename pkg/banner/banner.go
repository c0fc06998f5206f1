package banner

import "fmt"

const banner = `
██████╗ ██╗ ██████╗  ██████╗ ██████╗ ██╗     ██╗      █████╗ ██████╗
██╔══██╗██║██╔═══██╗██╔════╝██╔═══██╗██║     ██║     ██╔══██╗██╔══██╗
██████╔╝██║██║   ██║██║     ██║   ██║██║     ██║     ███████║██████╔╝
██╔══██╗██║██║   ██║██║     ██║   ██║██║     ██║     ██╔══██║██╔══██╗
██████╔╝██║╚██████╔╝╚██████╗╚██████╔╝███████╗███████╗██║  ██║██████╔╝
╚═════╝ ╚═╝ ╚═════╝  ╚═════╝ ╚═════╝ ╚══════╝╚══════╝╚═╝  ╚═╝╚═════╝
`

// Print writes the startup banner with the effective listen address,
// storage paths and build version.
func Print(addr, dbPath, syncDir, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("DB Path:   %s\n", dbPath)
	fmt.Printf("Sync Dir:  %s\n", syncDir)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:    %s\n", source)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/sessions                     - Create a collaboration session")
	fmt.Println("POST /v1/sessions/{id}/join           - Join a session")
	fmt.Println("POST /v1/sessions/{id}/annotations    - Annotate a sequence region")
	fmt.Println("POST /v1/annotations/{id}/votes       - Vote on an annotation")
	fmt.Println("POST /v1/sync                         - Replay queued offline actions")
	fmt.Println("GET  /v1/ws/{roomId}                  - Live session feed (websocket)")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/sessions' -H 'X-Scientist-Id: s1' -d '{\"name\":\"reef survey\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/sessions?status=active' -H 'X-Scientist-Id: s1'\n", addr)
}
