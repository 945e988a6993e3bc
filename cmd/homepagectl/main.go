// homepagectl es el CLI de administración: habla con el API usando la
// X-Admin-API-Key, pensado para scripts y para operar sin abrir el panel.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

// doOK envía la request y convierte cualquier status no-2xx en error.
func (c *client) doOK(method, path string, body []byte) ([]byte, error) {
	status, b, err := c.do(method, path, body)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("%s %s: status=%d body=%s", method, path, status, string(b))
	}
	return b, nil
}

func (c *client) print(body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	}
}

func main() {
	var (
		baseURL = envOr("HOMEPAGE_ADMIN_URL", "http://localhost:8085")
		apiKey  = envOr("HOMEPAGE_ADMIN_KEY", "")
		out     = envOr("HOMEPAGE_OUT", "text")
		timeout = 30 * time.Second
	)

	root := &cobra.Command{
		Use:   "homepagectl",
		Short: "CLI de administración de homepage (vía /api)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("falta la API key (flag --admin-api-key o env HOMEPAGE_ADMIN_KEY)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&baseURL, "admin-api-url", baseURL, "URL base del API (env HOMEPAGE_ADMIN_URL)")
	root.PersistentFlags().StringVar(&apiKey, "admin-api-key", apiKey, "API key del API (env HOMEPAGE_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{BaseURL: baseURL, APIKey: apiKey, OutFormat: out, HTTP: &http.Client{Timeout: timeout}}

	// El cobra parsea flags después de construir el cliente; sincronizar.
	cobra.OnInitialize(func() {
		cl.BaseURL = baseURL
		cl.APIKey = apiKey
		cl.OutFormat = out
	})

	root.AddCommand(
		pingCmd(cl),
		friendCmd(cl),
		serviceCmd(cl),
		requestsCmd(cl),
		activityCmd(cl),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func pingCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Verifica conectividad y API key contra el servidor",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cl.doOK("GET", "/api/admin/verify", nil)
			if err != nil {
				return err
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(body)
			return nil
		},
	}
}

func friendCmd(cl *client) *cobra.Command {
	friend := &cobra.Command{Use: "friend", Short: "Gestión de amigos y sus accesos"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista todos los amigos con sus enlaces y accesos",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cl.doOK("GET", "/api/friends", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}

	var createName, createMode, createExpires string
	var createServices []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Crea un amigo (con sus servicios iniciales si se indican)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if createName == "" {
				return fmt.Errorf("--name es requerido")
			}
			payload := map[string]any{"name": createName}
			if len(createServices) > 0 {
				payload["service_ids"] = createServices
			}
			if createMode != "" {
				payload["password_mode"] = createMode
			}
			if createExpires != "" {
				payload["expires_at"] = createExpires
			}
			b, _ := json.Marshal(payload)
			body, err := cl.doOK("POST", "/api/friends", b)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	create.Flags().StringVar(&createName, "name", "", "Nombre del amigo")
	create.Flags().StringSliceVar(&createServices, "services", nil, "IDs de servicios a conceder")
	create.Flags().StringVar(&createMode, "password-mode", "", "off|always|after_threshold")
	create.Flags().StringVar(&createExpires, "expires", "", "Caducidad del enlace (RFC3339)")

	var grantID string
	var grantServices []string
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Reemplaza el conjunto de servicios concedidos a un amigo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grantID == "" {
				return fmt.Errorf("--id es requerido")
			}
			b, _ := json.Marshal(map[string]any{"service_ids": grantServices})
			body, err := cl.doOK("PUT", "/api/friends/"+url.PathEscape(grantID), b)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	grant.Flags().StringVar(&grantID, "id", "", "ID del amigo")
	grant.Flags().StringSliceVar(&grantServices, "services", nil, "IDs de servicios (vacío = revocar todo)")

	var deleteID string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Borra un amigo y revoca sus cuentas externas",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteID == "" {
				return fmt.Errorf("--id es requerido")
			}
			body, err := cl.doOK("DELETE", "/api/friends/"+url.PathEscape(deleteID), nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	del.Flags().StringVar(&deleteID, "id", "", "ID del amigo")

	var tokenID string
	token := &cobra.Command{
		Use:   "regenerate-token",
		Short: "Genera un enlace nuevo (el anterior deja de funcionar)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenID == "" {
				return fmt.Errorf("--id es requerido")
			}
			body, err := cl.doOK("POST", "/api/friends/"+url.PathEscape(tokenID)+"/regenerate-token", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	token.Flags().StringVar(&tokenID, "id", "", "ID del amigo")

	friend.AddCommand(list, create, grant, del, token)
	return friend
}

func serviceCmd(cl *client) *cobra.Command {
	service := &cobra.Command{Use: "service", Short: "Gestión del catálogo de servicios"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los servicios con su estrategia y estado de integración",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cl.doOK("GET", "/api/services", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}

	var sName, sURL, sSub, sIcon, sDesc, sIntegration string
	var sDefault bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Da de alta un servicio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sName == "" {
				return fmt.Errorf("--name es requerido")
			}
			payload := map[string]any{"name": sName}
			if sURL != "" {
				payload["url"] = sURL
			}
			if sSub != "" {
				payload["subdomain"] = sSub
			}
			if sIcon != "" {
				payload["icon"] = sIcon
			}
			if sDesc != "" {
				payload["description"] = sDesc
			}
			if sIntegration != "" {
				payload["integration"] = sIntegration
			}
			if sDefault {
				payload["is_default"] = true
			}
			b, _ := json.Marshal(payload)
			body, err := cl.doOK("POST", "/api/services", b)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	create.Flags().StringVar(&sName, "name", "", "Nombre visible")
	create.Flags().StringVar(&sURL, "url", "", "URL del servicio")
	create.Flags().StringVar(&sSub, "subdomain", "", "Subdominio bajo el dominio base")
	create.Flags().StringVar(&sIcon, "icon", "", "Icono (emoji o URL)")
	create.Flags().StringVar(&sDesc, "description", "", "Descripción corta")
	create.Flags().StringVar(&sIntegration, "integration", "", "Slug de integración (ombi, jellyfin, ...)")
	create.Flags().BoolVar(&sDefault, "default", false, "Conceder a los amigos nuevos por defecto")

	var deleteID string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Borra un servicio (falla si aún tiene accesos concedidos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deleteID == "" {
				return fmt.Errorf("--id es requerido")
			}
			body, err := cl.doOK("DELETE", "/api/services/"+url.PathEscape(deleteID), nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	del.Flags().StringVar(&deleteID, "id", "", "ID del servicio")

	status := &cobra.Command{
		Use:   "status",
		Short: "Estado up/down de los servicios según el poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cl.doOK("GET", "/api/services/status", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}

	service.AddCommand(list, create, del, status)
	return service
}

func requestsCmd(cl *client) *cobra.Command {
	requests := &cobra.Command{Use: "requests", Short: "Peticiones de acceso de los amigos"}

	var listStatus string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista peticiones (filtrable por estado)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/requests"
			if listStatus != "" {
				path += "?status=" + url.QueryEscape(listStatus)
			}
			body, err := cl.doOK("GET", path, nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	list.Flags().StringVar(&listStatus, "status", "pending", "pending|approved|denied (vacío = todas)")

	var approveID string
	approve := &cobra.Command{
		Use:   "approve",
		Short: "Aprueba una petición y provisiona el acceso",
		RunE: func(cmd *cobra.Command, args []string) error {
			if approveID == "" {
				return fmt.Errorf("--id es requerido")
			}
			body, err := cl.doOK("POST", "/api/requests/"+url.PathEscape(approveID)+"/approve", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	approve.Flags().StringVar(&approveID, "id", "", "ID de la petición")

	var denyID string
	deny := &cobra.Command{
		Use:   "deny",
		Short: "Deniega una petición",
		RunE: func(cmd *cobra.Command, args []string) error {
			if denyID == "" {
				return fmt.Errorf("--id es requerido")
			}
			body, err := cl.doOK("POST", "/api/requests/"+url.PathEscape(denyID)+"/deny", nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	deny.Flags().StringVar(&denyID, "id", "", "ID de la petición")

	requests.AddCommand(list, approve, deny)
	return requests
}

func activityCmd(cl *client) *cobra.Command {
	var limit int
	activity := &cobra.Command{
		Use:   "activity",
		Short: "Últimas entradas del registro de actividad",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cl.doOK("GET", "/api/activity?limit="+strconv.Itoa(limit), nil)
			if err != nil {
				return err
			}
			cl.print(body)
			return nil
		},
	}
	activity.Flags().IntVar(&limit, "limit", 50, "Cuántas entradas traer (máx 500)")
	return activity
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
