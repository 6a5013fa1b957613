package types

import "time"

// RemoteType rappresenta il tipo di destinazione di backup
type RemoteType string

const (
	// RemoteDrive - Google Drive (cartella condivisa o account custom)
	RemoteDrive RemoteType = "drive"

	// RemoteLocal - Directory locale esposta tramite alias
	RemoteLocal RemoteType = "local"

	// RemoteSftp - Directory SFTP
	RemoteSftp RemoteType = "sftp"

	// RemoteOnedrive - Annunciato, non ancora implementato
	RemoteOnedrive RemoteType = "onedrive"
)

// String restituisce la rappresentazione stringa del tipo di remote
func (r RemoteType) String() string {
	return string(r)
}

// DriveMode seleziona la modalità di provisioning di un remote drive
type DriveMode string

const (
	// DriveShared - Cartella dentro l'account Drive condiviso
	DriveShared DriveMode = "shared"

	// DriveCustom - Account dell'utente (basato su token)
	DriveCustom DriveMode = "custom"
)

// String restituisce la rappresentazione stringa della modalità drive
func (d DriveMode) String() string {
	return string(d)
}

// MoveMode rappresenta la strategia di spostamento dei dati esistenti
type MoveMode int

const (
	// MoveNone - Creazione nuova, nessun dato da spostare
	MoveNone MoveMode = iota

	// MoveRename - Stessa directory padre, cambia solo il nome foglia
	MoveRename

	// MoveContents - La route corrente è la base stessa: i figli vengono
	// spostati dentro la nuova sottocartella
	MoveContents
)

// String restituisce la rappresentazione stringa della move mode
func (m MoveMode) String() string {
	switch m {
	case MoveRename:
		return "rename"
	case MoveContents:
		return "move-contents"
	default:
		return "none"
	}
}

// RemoteDescriptor è il record persistito di un remote
type RemoteDescriptor struct {
	ID        int64
	Name      string
	Type      RemoteType
	Route     string
	ShareURL  string
	Config    map[string]string
	CreatedAt time.Time
}

// AppLink è il record di un job di backup collegato (opzionalmente) a un remote
type AppLink struct {
	ID            int64
	Name          string
	URL           string
	Token         string
	Schedule      string
	DriveFolderID string
	RcloneRemote  string
	Retention     int
}

// LogLevel rappresenta il livello di logging
type LogLevel int

const (
	// LogLevelDebug - Log di debug (massimo dettaglio)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - Informazioni generali
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Avvisi
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errori
	LogLevelError LogLevel = 2

	// LogLevelCritical - Errori critici
	LogLevelCritical LogLevel = 1

	// LogLevelNone - Nessun log
	LogLevelNone LogLevel = 0
)

// String restituisce la rappresentazione stringa del log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ExitCode rappresenta il codice di uscita del processo
type ExitCode int

const (
	// ExitOK - Uscita regolare
	ExitOK ExitCode = 0

	// ExitConfigError - Configurazione mancante o invalida
	ExitConfigError ExitCode = 2

	// ExitStoreError - Errore di apertura/migrazione del database
	ExitStoreError ExitCode = 3

	// ExitServeError - Il server HTTP è terminato con errore
	ExitServeError ExitCode = 4
)

// Int restituisce il valore intero del codice di uscita
func (e ExitCode) Int() int {
	return int(e)
}
