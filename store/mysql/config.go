package mysql

// Config represent root of mysql config
type Config struct {
	Master   Connection   `yaml:"master" json:"master"`
	Slaves   []Connection `yaml:"slaves" json:"slaves"`
	ConnCfg  ConnCfg      `yaml:"conn_cfg" json:"conn_cfg"`
	LogLevel int          `yaml:"log_level" json:"log_level"`
}

type Connection struct {
	Host     string `yaml:"host" json:"host"`
	Port     uint   `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"db_name" json:"db_name"`
}

type ConnCfg struct {
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

const dsnTemplate = "%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC"
