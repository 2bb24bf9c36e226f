// Package mysql 持久化铸造台账。
// 每次成功提交的 safeMint 交易都会追加一条记录，供查询接口与对账使用；
// 提供基于 MySQL 的实现以及本地 JSON 行文件的开发实现。
package mysql
