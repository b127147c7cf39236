// issue_token emite un JWT firmado con JWT_SECRET para llamar a la API en desarrollo o desde
// módulos internos (ventas, compras, facturación) que no pasan por el gateway.
//
// Uso: go run ./cmd/issue_token -user svc-ventas -company c1 -role vendedor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jhoicas/inventario-sync/pkg/config"
	"github.com/jhoicas/inventario-sync/pkg/jwt"
)

func main() {
	userID := flag.String("user", "", "user_id del token (obligatorio)")
	companyID := flag.String("company", "", "company_id del token")
	role := flag.String("role", "vendedor", "admin | bodeguero | vendedor")
	minutes := flag.Int("minutes", 0, "vigencia en minutos (por defecto JWT_EXPIRATION_MINUTES)")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "-user es obligatorio")
		flag.Usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cargar configuración: %v\n", err)
		os.Exit(1)
	}
	exp := cfg.JWT.Expiration
	if *minutes > 0 {
		exp = *minutes
	}
	token, err := jwt.Generate(cfg.JWT.Secret, *userID, *companyID, *role, cfg.JWT.Issuer, exp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generar token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
